// Package ring implements the driver side of the OpenCores MAC buffer
// descriptor rings. The descriptors live in the controller's BD RAM and are
// reached through a [regs.Bus]; every status access is one whole 32-bit
// transfer, so length and ownership always change together.
//
// Ownership is carried by handles: a [RxSlot] or [TxSlot] can only be
// obtained for a software-owned descriptor and is the only way to hand that
// descriptor back to hardware.
package ring
