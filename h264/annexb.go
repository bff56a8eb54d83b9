// Package h264 provides the minimal H.264 bitstream handling the mirroring
// pipeline needs: splitting an Annex B byte stream into NAL units and
// classifying them by type.
package h264

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// NALType extracts the 5-bit NAL unit type from the first payload byte.
// Returns 0 for an empty NAL.
func NALType(nal []byte) byte {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1F
}

// IsKeyframe returns true if the NAL is an IDR slice (type 5).
func IsKeyframe(nal []byte) bool {
	return NALType(nal) == NALTypeIDR
}

// IsSPS returns true if the NAL is a Sequence Parameter Set (type 7).
func IsSPS(nal []byte) bool {
	return NALType(nal) == NALTypeSPS
}

// IsPPS returns true if the NAL is a Picture Parameter Set (type 8).
func IsPPS(nal []byte) bool {
	return NALType(nal) == NALTypePPS
}

// SplitAnnexB scans an Annex B byte stream for start codes and returns the
// NAL unit payloads between them, start codes stripped. Both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes are recognized. Bytes after
// the last start code form the final NAL. Data before the first start code
// is discarded; an empty or code-free input yields nil.
func SplitAnnexB(data []byte) [][]byte {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct {
		scStart   int
		dataStart int
	}

	var positions []scPos
	i := 0
	for i < n-2 {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units [][]byte
	for idx, pos := range positions {
		if pos.dataStart >= n {
			continue
		}
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if pos.dataStart >= end {
			continue
		}
		units = append(units, data[pos.dataStart:end])
	}

	return units
}
