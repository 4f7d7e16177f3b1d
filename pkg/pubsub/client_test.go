package pubsub

import "testing"

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"relay-prod", "dead-letters", "projects/relay-prod/topics/dead-letters"},
		{"relay-prod", " projects/other/topics/dlq ", "projects/other/topics/dlq"},
		{"", "dead-letters", ""},
		{"relay-prod", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatalf("expected nil publisher from nil client")
	}
	if c.DeadLetterPublisher() != nil {
		t.Fatalf("expected nil dead letter publisher from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if NewPublisher(nil) != nil {
		t.Fatalf("expected nil adapter for nil publisher")
	}
}
