package metrics

import "testing"

func TestRecordLaunchAndTerminationUpdateSnapshot(t *testing.T) {
	c := New()

	c.RecordLaunch(0)
	c.RecordTermination("expired")
	c.SetActiveSessions(3)
	c.SetPortCounts(1, 2, 3)

	snap := c.GetSnapshot()
	if snap.SessionsLaunched != 1 {
		t.Fatalf("SessionsLaunched = %d", snap.SessionsLaunched)
	}
	if snap.SessionsTerminated != 1 {
		t.Fatalf("SessionsTerminated = %d", snap.SessionsTerminated)
	}
	if snap.ActiveSessions != 3 {
		t.Fatalf("ActiveSessions = %d", snap.ActiveSessions)
	}
	if snap.PortsFree != 1 || snap.PortsReserved != 2 || snap.PortsActive != 3 {
		t.Fatalf("port counts = %+v", snap)
	}
}
