package serial

import "time"

// On common ESP32 boards DTR and RTS drive EN and GPIO0 through a pair of
// transistors, so the lines are inverted: RTS high pulls EN low (reset) and
// DTR high pulls GPIO0 low (download mode).
type resetStep struct {
	dtr, rts bool
	hold     time.Duration
}

// bootloaderSequence resets the chip with GPIO0 held low so the ROM enters
// the serial download mode.
var bootloaderSequence = []resetStep{
	{dtr: false, rts: true, hold: 100 * time.Millisecond},
	{dtr: true, rts: false, hold: 50 * time.Millisecond},
	{dtr: false, rts: true, hold: 50 * time.Millisecond},
	{dtr: false, rts: false, hold: 100 * time.Millisecond},
}

// hardResetSequence pulses EN only, booting the application.
var hardResetSequence = []resetStep{
	{dtr: false, rts: true, hold: 100 * time.Millisecond},
	{dtr: false, rts: false},
}

func (p *Port) run(seq []resetStep) error {
	for _, s := range seq {
		if err := p.port.SetRTS(s.rts); err != nil {
			return err
		}
		if err := p.port.SetDTR(s.dtr); err != nil {
			return err
		}
		time.Sleep(s.hold)
	}
	return nil
}

// ResetToBootloader resets the ESP32 into its ROM download mode.
func (p *Port) ResetToBootloader() error {
	if err := p.run(bootloaderSequence); err != nil {
		return err
	}
	// Drop the boot banner printed during reset
	return p.Flush()
}

// HardReset restarts the chip into the application.
func (p *Port) HardReset() error {
	return p.run(hardResetSequence)
}
