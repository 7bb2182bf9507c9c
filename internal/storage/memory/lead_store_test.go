package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

func TestLeadStoreDedupByPlace(t *testing.T) {
	t.Parallel()

	store := NewLeadStore(nil)
	ctx := context.Background()

	first, err := store.InsertLead(ctx, harvest.Lead{JobID: "j1", PlaceID: "p1", Status: harvest.LeadStatusScraped})
	require.NoError(t, err)
	require.EqualValues(t, 1, first.ID)
	require.False(t, first.CreatedAt.IsZero())

	_, err = store.InsertLead(ctx, harvest.Lead{JobID: "j2", PlaceID: "p1"})
	require.ErrorIs(t, err, harvest.ErrDuplicate)

	_, err = store.InsertLead(ctx, harvest.Lead{JobID: "j2"})
	require.ErrorIs(t, err, harvest.ErrInvalidInput)

	ok, err := store.HasPlace(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)

	j2, err := store.ListLeadsByJob(ctx, "j2")
	require.NoError(t, err)
	require.Empty(t, j2)
}

func TestLeadStoreEnrichment(t *testing.T) {
	t.Parallel()

	store := NewLeadStore(nil)
	ctx := context.Background()
	insert := func(place, website, emails string, status harvest.LeadStatus) harvest.Lead {
		lead, err := store.InsertLead(ctx, harvest.Lead{
			JobID: "j1", PlaceID: place, Website: website, Emails: emails, Status: status,
		})
		require.NoError(t, err)
		return lead
	}
	insert("done", "https://done.al", "info@done.al", harvest.LeadStatusScraped)
	insert("nosite", "", "", harvest.LeadStatusScraped)
	empty := insert("empty", "https://empty.al", "", harvest.LeadStatusScraped)
	insert("failed", "https://failed.al", "", harvest.LeadStatusFailed)
	insert("pending", "https://pending.al", "", harvest.LeadStatusPending)
	insert("social", "https://facebook.com/hotel", "", harvest.LeadStatusSkipped)

	candidates, err := store.ListEnrichmentCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	require.Equal(t, "empty", candidates[0].PlaceID)

	limited, err := store.ListEnrichmentCandidates(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	require.NoError(t, store.UpdateLeadEmails(ctx, empty.ID, []string{"a@empty.al", "b@empty.al"}, harvest.LeadStatusScraped))
	leads, err := store.ListLeadsByJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "a@empty.al,b@empty.al", leads[2].Emails)

	candidates, err = store.ListEnrichmentCandidates(ctx, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	require.ErrorIs(t, store.UpdateLeadEmails(ctx, 999, nil, harvest.LeadStatusFailed), harvest.ErrNotFound)
}
