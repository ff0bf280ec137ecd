package gcode

import "fmt"

// AddLineAndHash takes a g-code command, such as "G28 Z0 F150", and
// transforms it into the defensive form that includes the desired
// line number and an XOR checksum, for example "N9 G28 Z0 F150*2".
// The line number is uint64 because the protocol's line counter never
// resets except on M110 and must not wrap at 32 bits on long prints.
func AddLineAndHash(lineno uint64, gcode string) string {
	str := fmt.Sprintf("N%d %s", lineno, gcode)
	var sum byte
	for i := 0; i < len(str); i++ {
		sum ^= str[i]
	}
	return fmt.Sprintf("%s*%d", str, sum)
}
