package types

// Artifact is a named, typed container for actions.
type Artifact struct {
	ID    string `json:"id" msgpack:"id"`
	Title string `json:"title" msgpack:"title"`
	Type  string `json:"type,omitempty" msgpack:"type,omitempty"`
	// TagID is the id attribute given by the model, if any.
	TagID string `json:"tag_id,omitempty" msgpack:"tag_id,omitempty"`
}
