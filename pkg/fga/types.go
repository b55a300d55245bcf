package fga

import "time"

// TupleKey identifies one relationship: user has relation on object.
type TupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// Tuple is a stored relationship with its write timestamp.
type Tuple struct {
	Key       TupleKey  `json:"key"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ReadResponse is one page of stored tuples matching a Read filter.
type ReadResponse struct {
	Tuples            []Tuple `json:"tuples"`
	ContinuationToken string  `json:"continuation_token,omitempty"`
}

// checkRequest is the wire shape for a permission check.
type checkRequest struct {
	TupleKey TupleKey `json:"tuple_key"`
}

// checkResponse is the remote service's answer to a check.
type checkResponse struct {
	Allowed    bool   `json:"allowed"`
	Resolution string `json:"resolution,omitempty"`
}

// tupleKeys wraps a tuple list for the write endpoint.
type tupleKeys struct {
	TupleKeys []TupleKey `json:"tuple_keys"`
}

// writeRequest carries tuple writes and deletes in one call.
type writeRequest struct {
	Writes  *tupleKeys `json:"writes,omitempty"`
	Deletes *tupleKeys `json:"deletes,omitempty"`
}

// readRequest is the wire shape for a paginated tuple read.
type readRequest struct {
	TupleKey          *TupleKey `json:"tuple_key,omitempty"`
	PageSize          int       `json:"page_size,omitempty"`
	ContinuationToken string    `json:"continuation_token,omitempty"`
}

// apiError is the error body the remote service returns on non-2xx.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
