package agent

import "context"

type modelContextKey struct{}

// WithModel records the catalog model serving the current turn so generative
// tools can run nested generations against it.
func WithModel(ctx context.Context, model Model) context.Context {
	return context.WithValue(ctx, modelContextKey{}, model)
}

// ModelFromContext returns the model stored by WithModel.
func ModelFromContext(ctx context.Context) (Model, bool) {
	m, ok := ctx.Value(modelContextKey{}).(Model)
	return m, ok
}
