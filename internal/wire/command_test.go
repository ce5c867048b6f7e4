package wire

import (
	"bytes"
	"testing"
)

func TestParseCommandPub(t *testing.T) {
	body := FormatPublish("weather", []byte("sunny"))
	cmd, err := ParseCommand(body)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Verb != VerbPublish || cmd.Topic != "weather" || !bytes.Equal(cmd.Payload, []byte("sunny")) {
		t.Fatalf("unexpected parse result: %+v", cmd)
	}
}

func TestParseCommandPubDataContainsComma(t *testing.T) {
	body := FormatPublish("t", []byte("a,b,c"))
	cmd, err := ParseCommand(body)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if !bytes.Equal(cmd.Payload, []byte("a,b,c")) {
		t.Fatalf("expected payload to retain embedded commas, got %q", cmd.Payload)
	}
}

func TestParseCommandSubUsub(t *testing.T) {
	for _, verb := range []string{VerbSubscribe, VerbUnsubscribe} {
		body := formatSimple(verb, "topic1")
		cmd, err := ParseCommand(body)
		if err != nil {
			t.Fatalf("ParseCommand(%s) failed: %v", verb, err)
		}
		if cmd.Verb != verb || cmd.Topic != "topic1" {
			t.Fatalf("unexpected parse result for %s: %+v", verb, cmd)
		}
	}
}

func TestParseCommandMalformed(t *testing.T) {
	_, err := ParseCommand([]byte("GARBAGE"))
	if err != ErrMalformedCommand {
		t.Fatalf("expected ErrMalformedCommand, got %v", err)
	}

	_, err = ParseCommand([]byte("PUB::onlytopic"))
	if err != ErrMalformedCommand {
		t.Fatalf("expected ErrMalformedCommand for PUB without comma, got %v", err)
	}
}

func TestFormatVerdict(t *testing.T) {
	got := FormatVerdict(VerdictOK, VerbSubscribe, "topic1")
	if string(got) != "OK::SUB,topic1" {
		t.Fatalf("got %q", got)
	}

	got = FormatVerdict(VerdictErr, "?", "bad topic", "Invalid message")
	if string(got) != "ERR::?,bad topic,Invalid message" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatData(t *testing.T) {
	got := FormatData([]byte("hello"))
	if string(got) != "DATA::hello" {
		t.Fatalf("got %q", got)
	}
}

func TestIsTopicValid(t *testing.T) {
	cases := map[string]bool{
		"topic1":  true,
		"Topic":   true,
		"":        false,
		"topic:1": false,
		"topic-2": false,
		"tøpic":   false,
	}
	for topic, want := range cases {
		if got := IsTopicValid(topic); got != want {
			t.Errorf("IsTopicValid(%q) = %v, want %v", topic, got, want)
		}
	}
}
