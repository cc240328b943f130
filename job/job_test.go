package job

import (
	"testing"

	"kimapgo/wire"
)

func taggedMessage(tag, status string, responseCode ...string) *wire.Message {
	content := []wire.Part{wire.NewStringPart([]byte(tag)), wire.NewStringPart([]byte(status))}
	var rc []wire.Part
	for _, r := range responseCode {
		rc = append(rc, wire.NewStringPart([]byte(r)))
	}
	return &wire.Message{Content: content, ResponseCode: rc}
}

func TestBase_OKTerminatesSuccessfully(t *testing.T) {
	b := NewBase("Test")
	b.TrackTag("A000001")
	handled := b.HandleErrorReplies(taggedMessage("A000001", "OK"))
	if !handled {
		t.Fatal("expected HandleErrorReplies to handle the tagged OK")
	}
	select {
	case <-b.Done():
	default:
		t.Fatal("expected job to be done")
	}
	if b.Result().Status != StatusOk {
		t.Fatalf("status = %v", b.Result().Status)
	}
}

func TestBase_NOTerminatesAsUserError(t *testing.T) {
	b := NewBase("Test")
	b.TrackTag("A000001")
	b.HandleErrorReplies(taggedMessage("A000001", "NO"))
	if b.Result().Status != StatusUserError {
		t.Fatalf("status = %v", b.Result().Status)
	}
	if b.Result().Err == nil {
		t.Fatal("expected an error")
	}
}

func TestBase_SuccessCodeOverridesFailure(t *testing.T) {
	b := NewBase("Delete", "NONEXISTENT")
	b.TrackTag("A000003")
	b.HandleErrorReplies(taggedMessage("A000003", "NO", "NONEXISTENT"))
	if b.Result().Status != StatusOk {
		t.Fatalf("status = %v, want Ok (NONEXISTENT is idempotent success)", b.Result().Status)
	}
}

func TestBase_MultipleTagsOnlyEmitsOnLast(t *testing.T) {
	b := NewBase("Login")
	b.TrackTag("A000001")
	b.TrackTag("A000002")
	b.HandleErrorReplies(taggedMessage("A000001", "OK"))
	select {
	case <-b.Done():
		t.Fatal("should not be done after first of two tags retires")
	default:
	}
	b.HandleErrorReplies(taggedMessage("A000002", "OK"))
	select {
	case <-b.Done():
	default:
		t.Fatal("expected job done after last tag retires")
	}
}

func TestBase_UnrelatedTagIsNotHandled(t *testing.T) {
	b := NewBase("Test")
	b.TrackTag("A000001")
	if b.HandleErrorReplies(taggedMessage("A999999", "OK")) {
		t.Fatal("should not handle a tag this job never issued")
	}
}

func TestBase_ConnectionLost(t *testing.T) {
	b := NewBase("Test")
	b.ConnectionLost(errFake{})
	if b.Result().Status != StatusConnectionLost {
		t.Fatalf("status = %v", b.Result().Status)
	}
}

type errFake struct{}

func (errFake) Error() string { return "fake" }
