package models

// These structs define the JSON payloads exchanged with the Cloud Functions entry points.

// EnrichRequest is the input for the document-enricher function.
type EnrichRequest struct {
	DocumentIDs []string `json:"documentIds"`
	Resume      bool     `json:"resume"`
}

// IngestTrigger is the optional JSON body of the Pub/Sub message that triggers catalog-ingest.
type IngestTrigger struct {
	ListingURL string `json:"listingUrl"`
}

// DocumentOutcome reports how far one document got in a batch run.
type DocumentOutcome struct {
	DocumentID string    `json:"documentId"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	// Document is the state the run left the document in. It stays out of responses,
	// which would otherwise carry the full report texts.
	Document   *Document `json:"-"`
}

// Succeeded reports whether the document went through every stage.
func (o DocumentOutcome) Succeeded() bool {
	return o.Error == "" && o.Status == StatusCompleted
}

// BatchResult is the output of an enrichment batch. Outcomes are in request order and
// there is one per requested id.
type BatchResult struct {
	RunID     string            `json:"runId"`
	Outcomes  []DocumentOutcome `json:"outcomes"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
}

// IngestResult is the output of a catalog ingestion run.
type IngestResult struct {
	ListingURL  string       `json:"listingUrl"`
	Rows        int          `json:"rows"`
	InsertedIDs []string     `json:"insertedIds"`
	Duplicates  int          `json:"duplicates"`
	Batch       *BatchResult `json:"batch,omitempty"`
}

// PubSubMessageEvent is the data of a Pub/Sub "message published" CloudEvent.
type PubSubMessageEvent struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
