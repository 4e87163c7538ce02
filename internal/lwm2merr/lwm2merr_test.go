package lwm2merr

import "testing"

func TestCoapCodeRoundTrip(t *testing.T) {
	codes := []Code{
		Success, SuccessCreated, SuccessChanged, SuccessDeleted, SuccessContent,
		BadRequest, Unauthorized, NotFound, MethodNotAllowed, Forbidden,
		PayloadTooLarge, UnsupportedContentFormat,
	}
	for _, c := range codes {
		got := FromCoapCode(c.CoapCode())
		if got != c {
			t.Errorf("FromCoapCode(%v.CoapCode()) = %v, want %v", c, got, c)
		}
	}
}

func TestFromCoapCodeUnknownDefaultsToInternalError(t *testing.T) {
	if got := FromCoapCode(0xFF); got != InternalError {
		t.Errorf("FromCoapCode(0xFF) = %v, want InternalError", got)
	}
}

func TestIsSuccess(t *testing.T) {
	for _, c := range []Code{Success, SuccessCreated, SuccessChanged, SuccessDeleted, SuccessContent} {
		if !c.IsSuccess() {
			t.Errorf("%v.IsSuccess() = false, want true", c)
		}
	}
	for _, c := range []Code{BadRequest, Unauthorized, NotFound, MethodNotAllowed, Forbidden, PayloadTooLarge, UnsupportedContentFormat, InternalError} {
		if c.IsSuccess() {
			t.Errorf("%v.IsSuccess() = true, want false", c)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != Success {
		t.Error("CodeOf(nil) should be Success")
	}
	if CodeOf(New(NotFound, "missing")) != NotFound {
		t.Error("CodeOf should extract the wrapped Code")
	}
	if CodeOf(errPlain{}) != InternalError {
		t.Error("CodeOf should default unrecognized errors to InternalError")
	}
}

type errPlain struct{}

func (errPlain) Error() string { return "plain" }

func TestErrorString(t *testing.T) {
	if New(NotFound, "").Error() != "NotFound" {
		t.Error("Error() with empty message should just print the code")
	}
	if Newf(NotFound, "missing %s", "/3/0/1").Error() != "NotFound: missing /3/0/1" {
		t.Error("Error() should format code and message")
	}
}
