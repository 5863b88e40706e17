package linkframe

import "reflect"

// sameListener compares two Listener values by underlying function pointer.
// Go func values are not comparable with ==, but RemoveGenericListener's
// reference semantics (matching TF_RemoveGenericListener's raw function
// pointer comparison) need some notion of identity.
func sameListener(a, b Listener) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
