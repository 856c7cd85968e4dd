package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/user-directory/internal/application"
)

func TestWriteJSONLines(t *testing.T) {
	users := []application.UserView{
		{ID: "1", Name: "Ann", Email: "ann@x.com", Age: 30},
		{ID: "2", Name: "Bob", Email: "bob@x.com", Age: 40},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteJSONLines(&buf, users))

	sc := bufio.NewScanner(&buf)
	var got []application.UserView
	for sc.Scan() {
		var u application.UserView
		require.NoError(t, json.Unmarshal(sc.Bytes(), &u))
		got = append(got, u)
	}
	assert.Equal(t, users, got)
}

func TestWriteJSONLinesEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONLines(&buf, nil))
	assert.Zero(t, buf.Len())
}

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 5, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "exports/users-20260301T113005Z.jsonl", ObjectName("exports", at))
	assert.Equal(t, "users-20260301T113005Z.jsonl", ObjectName("", at))
}
