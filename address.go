package isotp

// Address is the triple identifying one ISO-TP peer pair (§3 Address
// triple). TxID is the identifier this session sends physical requests on,
// RxID the identifier it listens for the peer's responses on, and FID the
// functional (broadcast) identifier used for unacknowledged single-frame
// requests. 11-bit vs 29-bit is opaque here, mirroring the teacher's
// BusManager which treats CAN IDs as plain uint32 and masks them only at
// the link-dispatch boundary.
type Address struct {
	TxID uint32
	RxID uint32
	FID  uint32
}
