package domain

import (
	"encoding/json"
	"testing"
)

func TestBulkUpdateWireRoundTripPerEntity(t *testing.T) {
	env, err := EncodeBulkUpdate[Contact](SetContactStatus{Status: ContactStatusActive})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, _ := json.Marshal(env)
	var decoded BulkEnvelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	update, err := DecodeBulkUpdate[Contact](decoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	status, ok := update.(SetContactStatus)
	if !ok || status.Status != ContactStatusActive {
		t.Fatalf("unexpected decoded update %#v", update)
	}

	if _, err := DecodeBulkUpdate[Company](BulkEnvelope{Op: "set_status"}); err == nil {
		t.Fatalf("contact operation must not decode for companies")
	}
	if _, err := DecodeBulkUpdate[Pipeline](BulkEnvelope{Op: "set_active", Fields: json.RawMessage(`{"active":`)}); err == nil {
		t.Fatalf("malformed fields must fail")
	}
}

func TestBulkUpdateApply(t *testing.T) {
	c := Contact{Tags: []string{"vip"}}
	if err := (TagContacts{Tag: "vip"}).Apply(&c); err != nil || len(c.Tags) != 1 {
		t.Fatalf("tagging twice must be a no-op: %v %v", c.Tags, err)
	}
	if err := (TagContacts{}).Apply(&c); !IsValidation(err) {
		t.Fatalf("empty tag must be rejected, got %v", err)
	}
	if err := (SetContactStatus{Status: "archived"}).Apply(&c); !IsValidation(err) {
		t.Fatalf("unknown status must be rejected, got %v", err)
	}
	if err := (SetContactOwner{OwnerID: 9}).Apply(&c); err != nil || c.OwnerID == nil || *c.OwnerID != 9 {
		t.Fatalf("owner not applied: %v", err)
	}

	a := Activity{}
	if err := (CompleteActivities{Completed: true}).Apply(&a); err != nil || !a.Completed {
		t.Fatalf("complete not applied: %v", err)
	}
}
