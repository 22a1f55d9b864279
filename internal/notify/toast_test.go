package notify

import "testing"

func TestNotifyNeverPanicsWhenDeliveryFails(t *testing.T) {
	d := NewToastDelivery("kingo-test", "", nil)
	// On a host with no OS notification service this will fail internally;
	// Notify must swallow that rather than panic or return an error.
	d.Notify("summary", "body")
}
