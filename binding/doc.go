// Package binding models how a host runtime reaches extension objects
// through borrow-checked cells.
//
// Each extension object lives in a [Storage] that wraps a cell (either
// variant) and is registered under an [InstanceID] in a [Registry]. The host
// calls methods on objects by ID with [CallShared] and [CallMut]. An object
// whose method needs to call back into the host, which may call right back
// into the same object, suspends its own exclusive borrow with
// [Storage.Reenter] and makes the nested calls through the returned
// [BaseGuard].
//
// Destroying an object that is still borrowed is refused: the object is
// leaked, marked [Destroying], and an error is logged.
package binding
