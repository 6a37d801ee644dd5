package upload

import "context"

// Produced describes the ordered item a finished upload becomes.
type Produced struct {
	Resource string
	ScopeID  string
	Title    string
	Location string
	Metadata map[string]string
}

// ItemSink appends produced items to their ordered collection and returns
// the new item id.
type ItemSink interface {
	Append(ctx context.Context, p Produced) (string, error)
}

// ItemSinkFunc adapts a function to ItemSink.
type ItemSinkFunc func(ctx context.Context, p Produced) (string, error)

func (f ItemSinkFunc) Append(ctx context.Context, p Produced) (string, error) {
	return f(ctx, p)
}
