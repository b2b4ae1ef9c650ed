package vm_test

import "encoding/binary"

// buildImage assembles a program image per §3.1: header + code. modules is
// the list of module id bytes (opcode bases) to declare as required.
func buildImage(name string, modules []byte, code []byte) []byte {
	headerTail := append([]byte{byte(len(modules))}, modules...)
	headerTail = append(headerTail, []byte(name)...)

	img := []byte{'P', 'X', 'S', 0}
	heapSize := make([]byte, 2)
	binary.LittleEndian.PutUint16(heapSize, 16)
	img = append(img, heapSize...)
	img = append(img, byte(len(headerTail)))
	img = append(img, headerTail...)
	img = append(img, code...)
	return img
}

func u16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func i16le(v int16) []byte {
	return u16le(uint16(v))
}
