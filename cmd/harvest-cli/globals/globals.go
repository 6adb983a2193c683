package globals

import (
	"context"

	"coursesync-backend/services/harvest"
)

type key struct{}

type Value struct {
	Config harvest.Config
	// DumpHttp is the directory http exchanges are written to, empty
	// disables dumping.
	DumpHttp string
}

func Set(ctx context.Context, value *Value) context.Context {
	return context.WithValue(ctx, key{}, value)
}

func Get(ctx context.Context) *Value {
	return ctx.Value(key{}).(*Value)
}
