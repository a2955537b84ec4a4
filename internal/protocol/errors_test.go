package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrBadRequest,
		ErrNoPermission,
		ErrNoResource,
		ErrInvalidTarget,
		ErrRateLimit,
		ErrConflict,
		ErrStale,
		ErrInternal,
		ErrBusy,
		ErrNoFunds,
		ErrExpired,
		ErrSettlement,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestActionResult(t *testing.T) {
	ok := ActionResult(7, "r1", true, "", "done")
	if ok["type"] != "ACTION_RESULT" || ok["ref"] != "r1" || ok["ok"] != true || ok["message"] != "done" {
		t.Fatalf("ok result: %v", ok)
	}
	if _, has := ok["code"]; has {
		t.Fatalf("ok result must omit code: %v", ok)
	}
	bad := ActionResult(7, "r2", false, "E_NOT_DEFINED", "")
	if bad["code"] != ErrInternal {
		t.Fatalf("unknown code must map to %s: %v", ErrInternal, bad)
	}
	if _, has := bad["message"]; has {
		t.Fatalf("empty message must be omitted: %v", bad)
	}
}
