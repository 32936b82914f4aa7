package model

// PairingStatus tells whether the desktop currently has a reachable phone.
//
// The fields are unexported so a status can only be built with Paired or
// Unpaired: an unpaired status never carries a phone name. The zero value
// is Unpaired. PairingStatus values are comparable with ==.
type PairingStatus struct {
	phoneName string
	paired    bool
}

// Paired returns the status for a pairing with the named phone.
func Paired(phoneName string) PairingStatus {
	return PairingStatus{phoneName: phoneName, paired: true}
}

// Unpaired returns the status without a phone.
func Unpaired() PairingStatus {
	return PairingStatus{}
}

// IsPaired reports whether a phone is paired.
func (s PairingStatus) IsPaired() bool {
	return s.paired
}

// PhoneName returns the paired phone's name; ok is false when unpaired.
func (s PairingStatus) PhoneName() (name string, ok bool) {
	return s.phoneName, s.paired
}

func (s PairingStatus) String() string {
	if !s.paired {
		return "unpaired"
	}
	return "paired(" + s.phoneName + ")"
}
