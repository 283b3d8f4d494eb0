package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

func TestAPIClient(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{"message": domain.Message{ID: "m1", Content: "hi"}})
		case "/api/bots":
			json.NewEncoder(w).Encode(map[string]interface{}{"bots": []domain.BotDefinition{{Name: "Sage", Enabled: true}}})
		case "/api/bots/ghost/toggle":
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "bot ghost: not found", "code": "not_found"})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newAPIClient(srv.URL + "/")

	res, err := c.say(ctx, "hi")
	require.NoError(t, err)
	require.NotNil(t, res.Message)
	assert.Equal(t, "m1", res.Message.ID)
	assert.Equal(t, "hi", gotBody["content"])
	assert.Equal(t, participantID, gotBody["participantId"])

	list, err := c.bots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Enabled)

	_, err = c.toggle(ctx, "ghost", true)
	require.Error(t, err)
	assert.Equal(t, "bot ghost: not found (not_found)", err.Error())

	err = c.clear(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}
