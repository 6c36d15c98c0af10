package worker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom_server/core/port/out"
	"mailroom_server/pkg/apperr"
)

func TestParsePayload(t *testing.T) {
	job := &out.ClaimedJob{Payload: []byte(`{"occurrence_id":"abc","raw_eml_base64":"ZGF0YQ=="}`)}

	p, err := ParsePayload[occurrencePayload](job)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.OccurrenceID)
	assert.Equal(t, "ZGF0YQ==", p.RawEMLBase64)
}

func TestParsePayloadMalformed(t *testing.T) {
	job := &out.ClaimedJob{Payload: []byte(`{"occurrence_id":`)}

	_, err := ParsePayload[occurrencePayload](job)
	require.Error(t, err)
	assert.True(t, apperr.IsPermanent(err), "undecodable payloads never succeed on retry")
}

func TestRequireUUID(t *testing.T) {
	id := uuid.New()

	got, err := requireUUID(id.String(), "occurrence_id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = requireUUID("", "occurrence_id")
	require.Error(t, err)
	assert.True(t, apperr.IsPermanent(err))
	assert.Contains(t, err.Error(), "occurrence_id")

	_, err = requireUUID("not-a-uuid", "occurrence_id")
	require.Error(t, err)
	assert.True(t, apperr.IsPermanent(err))
}
