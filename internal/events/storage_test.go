package events

import "testing"

func TestDecodeKey(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"folder%2Bname/img.PNG", "folder+name/img.PNG"},
		{"my+holiday+photo.jpg", "my holiday photo.jpg"},
		{"plain.png", "plain.png"},
		{"..%2Fpic.png", "../pic.png"},
	}
	for _, tc := range cases {
		got, err := DecodeKey(tc.raw)
		if err != nil {
			t.Fatalf("DecodeKey(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("DecodeKey(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
	if _, err := DecodeKey("bad%zzkey"); err == nil {
		t.Fatalf("expected malformed escape to fail")
	}
	if _, err := DecodeKey(""); err == nil {
		t.Fatalf("expected empty key to fail")
	}
}

func TestIsImageKey(t *testing.T) {
	accepted := []string{"folder+name/img.PNG", "a.jpeg", "b.JPG", "c.png"}
	for _, key := range accepted {
		if !IsImageKey(key) {
			t.Fatalf("expected %q to be accepted", key)
		}
	}
	rejected := []string{"photo1.txt", "png", "image.png.exe", "noext", "x.gif"}
	for _, key := range rejected {
		if IsImageKey(key) {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}

func TestObjectCreatedRoundTrip(t *testing.T) {
	data := []byte(`{"Records":[{"s3":{"bucket":{"name":"photos"},"object":{"key":"folder%2Bname/img.PNG"}}}]}`)
	evt, err := ParseObjectCreated(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Records[0].S3.Bucket.Name != "photos" {
		t.Fatalf("unexpected bucket %q", evt.Records[0].S3.Bucket.Name)
	}
	key, err := DecodeKey(evt.Records[0].S3.Object.Key)
	if err != nil || key != "folder+name/img.PNG" {
		t.Fatalf("unexpected key %q (%v)", key, err)
	}

	built := NewObjectCreated("photos", "my photo.png")
	key, err = DecodeKey(built.Records[0].S3.Object.Key)
	if err != nil || key != "my photo.png" {
		t.Fatalf("NewObjectCreated key did not decode back: %q (%v)", key, err)
	}

	if _, err := ParseObjectCreated([]byte(`{"Records":[]}`)); err == nil {
		t.Fatalf("expected empty notification to fail")
	}
	if _, err := ParseObjectCreated([]byte(`not json`)); err == nil {
		t.Fatalf("expected malformed notification to fail")
	}
}
