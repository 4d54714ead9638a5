package audio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	name := ObjectName("student-1", "audio/wav")
	require.True(t, strings.HasPrefix(name, "answers/student-1/"), name)
	require.True(t, strings.HasSuffix(name, ".wav"), name)

	require.True(t, strings.HasSuffix(ObjectName("s", "not a type"), ".webm"))
	require.True(t, strings.HasSuffix(ObjectName("s", "audio/ogg; codecs=opus"), ".ogg"))
	require.True(t, strings.HasPrefix(ObjectName("", "audio/wav"), "answers/unknown/"))
	require.NotEqual(t, ObjectName("s", ""), ObjectName("s", ""))
}

func TestNewMinioRequiresBucket(t *testing.T) {
	_, err := NewMinio(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

func TestUploadPutsObject(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	s, err := NewMinio(Config{
		Endpoint:  endpoint,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "recordings",
		Region:    "us-east-1",
		PublicURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)

	data := []byte("RIFF....WAVE")
	url, err := s.Upload(context.Background(), "answers/s1/a.wav", bytes.NewReader(data), int64(len(data)), "audio/wav")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/recordings/answers/s1/a.wav", url)
	require.Equal(t, "/recordings/answers/s1/a.wav", gotPath)
	require.Equal(t, "audio/wav", gotType)
	require.NotEmpty(t, gotBody)
}
