package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TransactionChangedData is carried by TransactionAdded and TransactionDeleted.
// TradeDate is YYYY-MM-DD; it is the earliest date whose snapshot is affected.
type TransactionChangedData struct {
	Type          EventType `json:"-"`
	UserID        int64     `json:"user_id"`
	TransactionID int64     `json:"transaction_id"`
	SecurityID    int64     `json:"security_id"`
	TradeDate     string    `json:"trade_date"`
}

// EventType returns TransactionAdded unless Type says otherwise
func (d *TransactionChangedData) EventType() EventType {
	if d.Type == "" {
		return TransactionAdded
	}
	return d.Type
}

// PricesIngestedData contains the securities that received new closes and the
// earliest date among the ingested rows
type PricesIngestedData struct {
	SecurityIDs  []int64 `json:"security_ids"`
	EarliestDate string  `json:"earliest_date"`
	Rows         int     `json:"rows"`
}

// EventType returns the event type for PricesIngestedData
func (d *PricesIngestedData) EventType() EventType {
	return PricesIngested
}

// DividendsIngestedData contains the securities that received dividend events
type DividendsIngestedData struct {
	SecurityIDs []int64 `json:"security_ids"`
	Rows        int     `json:"rows"`
}

// EventType returns the event type for DividendsIngestedData
func (d *DividendsIngestedData) EventType() EventType {
	return DividendsIngested
}

// SnapshotsUpdatedData is emitted after a successful snapshot build
type SnapshotsUpdatedData struct {
	UserID int64  `json:"user_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Days   int    `json:"days"`
}

// EventType returns the event type for SnapshotsUpdatedData
func (d *SnapshotsUpdatedData) EventType() EventType {
	return SnapshotsUpdated
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
