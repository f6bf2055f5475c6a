package flash

// Op names a raw flash primitive.
type Op int

// Raw flash primitives.
const (
	OpErase Op = iota
	OpRead
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpErase:
		return "erase"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Call records one primitive issued against a Memory part. Addr holds the
// sector index for erases and the byte address otherwise.
type Call struct {
	Op   Op
	Addr uint32
	Len  int
}

type fault struct {
	op   Op
	addr uint32
}

// Memory is a RAM-backed NOR part. It records every call and can be told to
// fail specific ones.
type Memory struct {
	nor
	calls  []Call
	faults map[fault]error
}

// NewMemory creates an erased part of size bytes.
func NewMemory(size uint32, sectorShift uint) (*Memory, error) {
	if err := checkLayout(size, sectorShift); err != nil {
		return nil, err
	}
	m := &Memory{
		nor:    nor{data: make([]byte, size), sectorShift: sectorShift},
		faults: make(map[fault]error),
	}
	fill(m.data)
	return m, nil
}

// Inject makes the call op at addr (sector index for OpErase) fail with err
// until cleared with a nil err.
func (m *Memory) Inject(op Op, addr uint32, err error) {
	key := fault{op: op, addr: addr}
	if err == nil {
		delete(m.faults, key)
		return
	}
	m.faults[key] = err
}

// Calls returns the primitives issued so far.
func (m *Memory) Calls() []Call {
	return append([]Call(nil), m.calls...)
}

// ResetCalls clears the call log.
func (m *Memory) ResetCalls() {
	m.calls = m.calls[:0]
}

// Bytes exposes the backing array.
func (m *Memory) Bytes() []byte {
	return m.data
}

// EraseSector erases one sector.
func (m *Memory) EraseSector(sector uint32) error {
	m.calls = append(m.calls, Call{Op: OpErase, Addr: sector, Len: int(m.sectorSize())})
	if err := m.faults[fault{op: OpErase, addr: sector}]; err != nil {
		return err
	}
	return m.eraseSector(sector)
}

// ReadBytes reads len(p) bytes at addr.
func (m *Memory) ReadBytes(addr uint32, p []byte) (int, error) {
	m.calls = append(m.calls, Call{Op: OpRead, Addr: addr, Len: len(p)})
	if err := m.faults[fault{op: OpRead, addr: addr}]; err != nil {
		return 0, err
	}
	return m.read(addr, p)
}

// WriteBytes programs p at addr, clearing bits only.
func (m *Memory) WriteBytes(addr uint32, p []byte) (int, error) {
	m.calls = append(m.calls, Call{Op: OpWrite, Addr: addr, Len: len(p)})
	if err := m.faults[fault{op: OpWrite, addr: addr}]; err != nil {
		return 0, err
	}
	return m.program(addr, p)
}
