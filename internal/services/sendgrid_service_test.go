package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendgridSendBuildsV3Payload(t *testing.T) {
	var gotAuth string
	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	svc := NewSendgridService("SG.test-key", "receipts@shulpad.com", "ShulPad Receipts",
		WithSendgridBaseURL(server.URL))

	err := svc.Send(context.Background(), &EmailMessage{
		To:       "donor@example.com",
		ToName:   "Test Donor",
		Subject:  "Your donation receipt",
		TextBody: "Thank you for your donation of $18.00",
		HTMLBody: "<p>Thank you for your donation of $18.00</p>",
		Attachments: []EmailAttachment{
			{Filename: "receipt.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4 fake")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer SG.test-key", gotAuth)
	assert.Equal(t, "/v3/mail/send", gotPath)

	var payload sendgridPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Len(t, payload.Personalizations, 1)
	require.Len(t, payload.Personalizations[0].To, 1)
	assert.Equal(t, "donor@example.com", payload.Personalizations[0].To[0].Email)
	assert.Equal(t, "Test Donor", payload.Personalizations[0].To[0].Name)
	assert.Equal(t, "receipts@shulpad.com", payload.From.Email)
	assert.Equal(t, "Your donation receipt", payload.Subject)

	require.Len(t, payload.Content, 2)
	assert.Equal(t, "text/plain", payload.Content[0].Type)
	assert.Equal(t, "text/html", payload.Content[1].Type)

	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "receipt.pdf", payload.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", payload.Attachments[0].Type)
	assert.Equal(t, "attachment", payload.Attachments[0].Disposition)
	decoded, err := base64.StdEncoding.DecodeString(payload.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 fake"), decoded)
}

func TestSendgridSendSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer server.Close()

	svc := NewSendgridService("SG.bad-key", "receipts@shulpad.com", "ShulPad Receipts",
		WithSendgridBaseURL(server.URL))

	err := svc.Send(context.Background(), &EmailMessage{To: "donor@example.com", Subject: "x", TextBody: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad key")
}

func TestSendgridUnconfigured(t *testing.T) {
	svc := NewSendgridService("", "receipts@shulpad.com", "ShulPad Receipts")
	assert.False(t, svc.Configured())

	err := svc.Send(context.Background(), &EmailMessage{To: "donor@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
