package causality

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ignishq/ignis/internal/storage"
)

func TestFromMessage(t *testing.T) {
	msg := &storage.Message{
		ID:       "m1",
		Metadata: map[string]string{storage.MetadataParentKey: "inv-7"},
	}
	require.Equal(t, "inv-7", FromMessage(msg))

	require.Empty(t, FromMessage(&storage.Message{ID: "m2"}))
	require.Empty(t, FromMessage(nil))
}

func TestFromBlobMetadata(t *testing.T) {
	require.Equal(t, "inv-9", FromBlobMetadata(map[string]string{storage.MetadataParentKey: "inv-9"}))
	require.Empty(t, FromBlobMetadata(map[string]string{"other": "x"}))
	require.Empty(t, FromBlobMetadata(nil))
}
