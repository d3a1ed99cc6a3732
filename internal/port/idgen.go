package port

import "context"

type IDGenerator interface {
	// NextID returns a globally unique, time-ordered identifier. Values
	// for the same business key are strictly increasing within a day.
	NextID(ctx context.Context, businessKey string) (int64, error)
}
