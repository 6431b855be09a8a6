package records

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, jobType := range []domain.JobType{domain.JobTypeLogo, domain.JobTypeMeme, domain.JobTypeSticker} {
		rec := &domain.GenerationRecord{
			JobID:     "job",
			UserID:    "u1",
			Type:      jobType,
			URLs:      []string{"mem://x.png"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Save(ctx, rec))
		assert.NotEmpty(t, rec.ID)
	}
	require.NoError(t, store.Save(ctx, &domain.GenerationRecord{UserID: "u2", Type: domain.JobTypeEdit}))

	recs, err := store.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.JobTypeSticker, recs[0].Type)
	assert.Equal(t, domain.JobTypeMeme, recs[1].Type)

	assert.Len(t, store.All(), 4)
	assert.False(t, store.All()[3].CreatedAt.IsZero())
}
