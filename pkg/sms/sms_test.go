package sms

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestDialogURLGateway_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "key-1", q.Get("esmsqk"))
		assert.Equal(t, "254712345678", q.Get("list"))
		assert.Equal(t, "SmartTrans", q.Get("source_address"))
		assert.Equal(t, "hello", q.Get("message"))
		w.Write([]byte("1"))
	}))
	defer server.Close()

	gw := NewDialogURLGateway(server.URL, "key-1", "SmartTrans", quietLogger())
	id, err := gw.Send(context.Background(), "254712345678", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestDialogURLGateway_Errors(t *testing.T) {
	t.Run("error code in body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("2001"))
		}))
		defer server.Close()

		_, err := NewDialogURLGateway(server.URL, "k", "m", quietLogger()).Send(context.Background(), "254712345678", "x")
		assert.ErrorContains(t, err, "2001")
	})

	t.Run("non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewDialogURLGateway(server.URL, "k", "m", quietLogger()).Send(context.Background(), "254712345678", "x")
		assert.ErrorContains(t, err, "503")
	})
}

func TestLogSender(t *testing.T) {
	id, err := NewLogSender(quietLogger()).Send(context.Background(), "254712345678", "hi")
	require.NoError(t, err)
	assert.Regexp(t, `^dev-`, id)
}
