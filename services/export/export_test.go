package export

import (
	"bytes"
	"testing"
	"time"

	"filippo.io/age"
)

var sampleSnapshot = []byte(`{
  "generated_at": "2026-08-23T10:00:00Z",
  "segments": [],
  "machines": [
    {"machine_id": "relay-alpha", "online": true, "events": [{"id": "a-1"}, {"id": "a-2"}]},
    {"machine_id": "relay-bravo", "online": false, "events": []}
  ],
  "notifications": [{"id": "n-1"}]
}`)

func fixedNow() time.Time {
	return time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	manifest, err := Write(&buf, sampleSnapshot, Options{Server: "http://dash.local", Now: fixedNow})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if manifest.Machines != 2 {
		t.Fatalf("manifest.Machines = %d, want 2", manifest.Machines)
	}
	if manifest.Events != 2 {
		t.Fatalf("manifest.Events = %d, want 2", manifest.Events)
	}
	if manifest.Notifications != 1 {
		t.Fatalf("manifest.Notifications = %d, want 1", manifest.Notifications)
	}

	got, snapshot, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.SnapshotSHA256 != manifest.SnapshotSHA256 {
		t.Fatalf("digest mismatch after round trip")
	}
	if !bytes.Equal(snapshot, sampleSnapshot) {
		t.Fatal("snapshot altered by round trip")
	}
}

func TestWriteReadEncrypted(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	var buf bytes.Buffer
	if _, err := Write(&buf, sampleSnapshot, Options{
		Recipient: identity.Recipient().String(),
		Now:       fixedNow,
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	encrypted := append([]byte(nil), buf.Bytes()...)
	if _, _, err := Read(bytes.NewReader(encrypted)); err == nil {
		t.Fatal("Read() opened encrypted archive without identity")
	}

	_, snapshot, err := Read(bytes.NewReader(encrypted), identity)
	if err != nil {
		t.Fatalf("Read() with identity error = %v", err)
	}
	if !bytes.Equal(snapshot, sampleSnapshot) {
		t.Fatal("snapshot altered by encrypted round trip")
	}
}

func TestWriteRejectsBadInput(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Write(&buf, nil, Options{}); err == nil {
		t.Fatal("Write() accepted empty snapshot")
	}
	if _, err := Write(&buf, []byte("not json"), Options{}); err == nil {
		t.Fatal("Write() accepted unparseable snapshot")
	}
	if _, err := Write(&buf, sampleSnapshot, Options{Recipient: "bogus"}); err == nil {
		t.Fatal("Write() accepted invalid recipient")
	}
}

func TestReadDetectsTamper(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Write(&buf, sampleSnapshot, Options{Now: fixedNow}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data := buf.Bytes()
	data[len(data)-4] ^= 0xff
	if _, _, err := Read(bytes.NewReader(data)); err == nil {
		t.Fatal("Read() accepted corrupted archive")
	}
}
