// Package segments computes how many SMS segments a message body consumes.
// One segment is the billing unit for one SMS send.
package segments

// Encoding identifies the SMS text encoding a message requires.
type Encoding string

const (
	EncodingGSM7 Encoding = "GSM7"
	EncodingUCS2 Encoding = "UCS2"
)

// Single-segment and concatenated per-segment capacities. Concatenated
// segments lose capacity to the UDH concatenation header, so a message at
// or under the single-segment limit always costs exactly one segment even
// though the single limit exceeds the concatenated one.
const (
	gsm7SingleLimit = 160
	gsm7ConcatLimit = 153
	ucs2SingleLimit = 70
	ucs2ConcatLimit = 67
)

// turkishForceUCS2 holds the code points the gateway bills as UCS-2 even
// where GSM 03.38 nominally covers them.
var turkishForceUCS2 = map[rune]struct{}{
	'ç': {}, 'Ç': {}, 'ğ': {}, 'Ğ': {}, 'ı': {}, 'İ': {},
	'ö': {}, 'Ö': {}, 'ş': {}, 'Ş': {}, 'ü': {}, 'Ü': {},
}

// gsm7Set is the GSM 03.38 basic character set plus the common extension
// table. Characters outside this set require UCS-2.
var gsm7Set = buildGSM7Set()

func buildGSM7Set() map[rune]struct{} {
	const basic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
		"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑܧ¿abcdefghijklmnopqrstuvwxyzäöñüà"
	const extension = "\f^{}\\[~]|€"

	set := make(map[rune]struct{}, len(basic)+len(extension))
	for _, r := range basic {
		set[r] = struct{}{}
	}
	for _, r := range extension {
		set[r] = struct{}{}
	}
	return set
}

// Classify reports the encoding required for the message.
func Classify(message string) Encoding {
	for _, r := range message {
		if _, forced := turkishForceUCS2[r]; forced {
			return EncodingUCS2
		}
		if _, ok := gsm7Set[r]; !ok {
			return EncodingUCS2
		}
	}
	return EncodingGSM7
}

// Calculate returns the number of segments (credits) the message costs.
// An empty message costs zero; it is rejected upstream before any send.
func Calculate(message string) int {
	length := len([]rune(message))
	if length == 0 {
		return 0
	}

	single, concat := gsm7SingleLimit, gsm7ConcatLimit
	if Classify(message) == EncodingUCS2 {
		single, concat = ucs2SingleLimit, ucs2ConcatLimit
	}

	if length <= single {
		return 1
	}
	return (length + concat - 1) / concat
}
