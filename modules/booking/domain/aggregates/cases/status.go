package cases

// Status is a case's lifecycle state. The set is closed: unknown values are
// rejected at the DTO boundary. No transition-legality table is enforced:
// the recorder keeps whatever status it is given, it only guards against
// duplicates.
type Status string

const (
	StatusBooked                  Status = "Case Booked"
	StatusOrderPreparation        Status = "Order Preparation"
	StatusOrderPrepared           Status = "Order Prepared"
	StatusPendingDeliveryHospital Status = "Pending Delivery (Hospital)"
	StatusDeliveredHospital       Status = "Delivered (Hospital)"
	StatusCaseCompleted           Status = "Case Completed"
	StatusPendingDeliveryOffice   Status = "Pending Delivery (Office)"
	StatusToBeBilled              Status = "To be billed"
	StatusCaseClosed              Status = "Case Closed"
	StatusCaseCancelled           Status = "Case Cancelled"
)

// InitialStatus is the seeded status of every new booking. Its history
// entries get the earliest-occurrence dedup treatment.
const InitialStatus = StatusBooked

var validStatuses = map[Status]struct{}{
	StatusBooked:                  {},
	StatusOrderPreparation:        {},
	StatusOrderPrepared:           {},
	StatusPendingDeliveryHospital: {},
	StatusDeliveredHospital:       {},
	StatusCaseCompleted:           {},
	StatusPendingDeliveryOffice:   {},
	StatusToBeBilled:              {},
	StatusCaseClosed:              {},
	StatusCaseCancelled:           {},
}

func (s Status) IsValid() bool {
	_, ok := validStatuses[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusCaseClosed || s == StatusCaseCancelled
}
