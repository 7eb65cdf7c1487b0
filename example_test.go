package memcheck_test

import (
	"fmt"
	"unsafe"

	"github.com/kolkov/memcheck"
)

// Example tracks a heap block from allocation to its first store.
func Example() {
	if err := memcheck.Init("--verbosity=0"); err != nil {
		panic(err)
	}
	defer memcheck.Fini()

	buf := make([]byte, 16)
	p := uintptr(unsafe.Pointer(&buf[0]))
	memcheck.Malloc(p, 16, false)

	fmt.Printf("before store: %#x\n", memcheck.LoadV64(p, false))

	memcheck.StoreV64(p, 0, false)
	buf[0] = 1
	fmt.Printf("after store:  %#x\n", memcheck.LoadV64(p, false))
	fmt.Println("errors:", memcheck.ErrorCount())

	// Output:
	// before store: 0xffffffffffffffff
	// after store:  0x0
	// errors: 0
}

// Example_clientCheck shows a client request catching a read past the end
// of a block.
func Example_clientCheck() {
	if err := memcheck.Init("--verbosity=0"); err != nil {
		panic(err)
	}
	defer memcheck.Fini()

	buf := make([]byte, 32)
	p := uintptr(unsafe.Pointer(&buf[0]))
	memcheck.Malloc(p, 24, true)

	bad, ok := memcheck.CheckMemIsAddressable(p, 32)
	fmt.Println("addressable:", ok)
	fmt.Println("first bad offset:", bad-p)

	// Output:
	// addressable: false
	// first bad offset: 24
}

// Example_origins shows where an undefined value came from.
func Example_origins() {
	if err := memcheck.Init("--track-origins=yes", "--verbosity=0"); err != nil {
		panic(err)
	}
	defer memcheck.Fini()

	buf := make([]byte, 8)
	p := uintptr(unsafe.Pointer(&buf[0]))
	memcheck.Malloc(p, 8, false)

	fmt.Println(memcheck.Origin(p, 4).Kind())

	info := memcheck.GetInfo()
	fmt.Println(info.Level, info.Enabled)

	// Output:
	// heap
	// origins true
}
