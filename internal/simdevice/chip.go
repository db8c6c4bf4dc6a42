package simdevice

// Family is the command set a simulated flash chip understands.
type Family int

// Flash command sets.
const (
	// JEDEC is the AMD/Fujitsu unlock-cycle command set.
	JEDEC Family = iota
	// Intel is the Intel/Sharp status-register command set.
	Intel
)

// Region is a run of equally sized erase sectors starting at Start.
type Region struct {
	Start uint32
	Size  uint32
}

// Chip is a simulated flash chip. Programming only clears bits, so data
// written over unerased memory reads back corrupted.
type Chip struct {
	Family Family
	ID     [4]byte

	// Unlock1 and Unlock2 are the raw command addresses of the JEDEC unlock
	// cycles, e.g. 0xAAA and 0x555.
	Unlock1, Unlock2 uint32
	// Swapped chips have data lines D0 and D1 exchanged.
	Swapped bool

	// Sectors describes erase sector sizes. Nil means one sector spanning the chip.
	Sectors []Region

	// BusyPolls is how many status reads report busy after an erase.
	BusyPolls int

	cycle   int
	idMode  bool
	status  bool
	pending uint16
	busy    int
	program bool

	// ChipErases and SectorErases record erase commands as they arrive.
	ChipErases   int
	SectorErases []uint32
}

func swapD0D1(b uint16) uint16 {
	return b&^3 | (b&1)<<1 | (b&2)>>1
}

func (c *Chip) data(v uint16) uint16 {
	if c.Swapped {
		return swapD0D1(v)
	}
	return v
}

// sector returns the erase sector containing off.
func (c *Chip) sector(off uint32, size int) (uint32, uint32) {
	if len(c.Sectors) == 0 {
		return 0, uint32(size)
	}
	r := c.Sectors[0]
	for _, next := range c.Sectors[1:] {
		if off < next.Start {
			break
		}
		r = next
	}
	start := r.Start + (off-r.Start)/r.Size*r.Size
	return start, r.Size
}

func (c *Chip) reset() {
	c.cycle = 0
	c.idMode = false
	c.status = false
	c.program = false
}

// command feeds a command write. raw is the address as issued, flat the
// offset into mem it maps to. word programs two bytes for 16-bit buses.
func (c *Chip) command(raw, flat uint32, v uint16, mem []byte, word bool) {
	if c.program {
		c.program = false
		programByte(mem, flat, byte(v))
		if word {
			programByte(mem, flat+1, byte(v>>8))
		}
		return
	}

	if c.Family == Intel {
		c.intelCommand(flat, v&0xFF, mem)
		return
	}

	if v == 0xF0 {
		c.reset()
		return
	}

	switch c.cycle {
	case 0, 3:
		if raw == c.Unlock1 && v == c.data(0xAA) {
			c.cycle++
			return
		}
	case 1, 4:
		if raw == c.Unlock2 && v == c.data(0x55) {
			c.cycle++
			return
		}
	case 2:
		if raw == c.Unlock1 {
			switch v {
			case c.data(0x90):
				c.cycle = 0
				c.idMode = true
				return
			case c.data(0x80):
				c.cycle = 3
				return
			case c.data(0xA0):
				c.cycle = 0
				c.program = true
				return
			}
		}
	case 5:
		switch {
		case raw == c.Unlock1 && v == c.data(0x10):
			c.ChipErases++
			erase(mem, 0, uint32(len(mem)))
			c.busy = c.BusyPolls
		case v == c.data(0x30):
			start, size := c.sector(flat, len(mem))
			c.SectorErases = append(c.SectorErases, start)
			erase(mem, start, size)
			c.busy = c.BusyPolls
		}
		c.cycle = 0
		return
	}
	c.cycle = 0
}

func (c *Chip) intelCommand(flat uint32, v uint16, mem []byte) {
	switch {
	case v == 0xFF:
		c.reset()
	case v == 0x90:
		c.idMode = true
		c.status = false
	case v == 0x70:
		c.status = true
	case v == 0x40 || v == 0x10:
		c.program = true
	case v == 0x20 || v == 0x30 || v == 0x60:
		c.pending = v
	case v == 0xD0:
		switch c.pending {
		case 0x20:
			start, size := c.sector(flat, len(mem))
			c.SectorErases = append(c.SectorErases, start)
			erase(mem, start, size)
			c.busy = c.BusyPolls
			c.status = true
		case 0x30:
			start := flat &^ (chunk4M - 1)
			c.SectorErases = append(c.SectorErases, start)
			erase(mem, start, chunk4M)
			c.busy = c.BusyPolls
			c.status = true
		}
		c.pending = 0
	}
}

const chunk4M = 0x400000

// overlay returns the byte a read at flat sees while the chip is not in
// read-array mode.
func (c *Chip) overlay(flat uint32) (byte, bool) {
	switch {
	case c.busy > 0:
		return 0x00, true
	case c.status:
		return 0x80, true
	case c.idMode:
		if flat < 4 {
			return c.ID[flat], true
		}
		return 0x00, true
	}
	return 0, false
}

// polled is called once per streamed chunk so erases finish over time.
func (c *Chip) polled() {
	if c.busy > 0 {
		c.busy--
	}
}

func erase(mem []byte, start, size uint32) {
	end := start + size
	if end > uint32(len(mem)) {
		end = uint32(len(mem))
	}
	for i := start; i < end; i++ {
		mem[i] = 0xFF
	}
}

func programByte(mem []byte, off uint32, v byte) {
	if off < uint32(len(mem)) {
		mem[off] &= v
	}
}
