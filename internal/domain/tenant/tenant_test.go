package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("acme"))
	assert.True(t, ValidID("acme_trial_01"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("Acme"))
	assert.False(t, ValidID("1acme"))
	assert.False(t, ValidID("acme-corp"))
	assert.False(t, ValidID("a; DROP SCHEMA public"))
}

func TestSchemaFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "public", SchemaFromContext(ctx))

	ctx = WithInfo(ctx, &Info{ID: "acme", Active: true})
	assert.Equal(t, "tenant_acme", SchemaFromContext(ctx))

	info, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "acme", info.ID)
}

func TestMustFromContext_Panics(t *testing.T) {
	assert.Panics(t, func() { MustFromContext(context.Background()) })
}
