package compiler

import "encoding/binary"

// BuildImage assembles a full program image per §3.1: the fixed prelude,
// module-id list, program name, and code section. requestedHeapSize is
// written into the header for transparency even though the VM's loader
// currently ignores it in favor of sizing the heap to match code length
// (see the loader's heap-size policy note).
func BuildImage(name string, modules []byte, requestedHeapSize uint16, code []byte) []byte {
	tail := make([]byte, 0, 1+len(modules)+len(name))
	tail = append(tail, byte(len(modules)))
	tail = append(tail, modules...)
	tail = append(tail, []byte(name)...)

	img := make([]byte, 0, 8+len(tail)+len(code))
	img = append(img, 'P', 'X', 'S', 0)
	img = binary.LittleEndian.AppendUint16(img, requestedHeapSize)
	img = append(img, byte(len(tail)))
	img = append(img, tail...)
	img = append(img, code...)
	return img
}
