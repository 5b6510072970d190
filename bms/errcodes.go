package bms

import "fmt"

const NoError = "no error"

// faultTable[byte][bit], bit 0 is LSB.
var faultTable = [...][8]string{
	{
		"cell volt high level 1",
		"cell volt high level 2",
		"cell volt low level 1",
		"cell volt low level 2",
		"sum volt high level 1",
		"sum volt high level 2",
		"sum volt low level 1",
		"sum volt low level 2",
	},
	{
		"charge temp high level 1",
		"charge temp high level 2",
		"charge temp low level 1",
		"charge temp low level 2",
		"discharge temp high level 1",
		"discharge temp high level 2",
		"discharge temp low level 1",
		"discharge temp low level 2",
	},
	{
		"charge overcurrent level 1",
		"charge overcurrent level 2",
		"discharge overcurrent level 1",
		"discharge overcurrent level 2",
		"SOC high level 1",
		"SOC high level 2",
		"SOC low level 1",
		"SOC low level 2",
	},
	{
		"diff volt level 1",
		"diff volt level 2",
		"diff temp level 1",
		"diff temp level 2",
	},
	{
		"charge MOS temp high alarm",
		"discharge MOS temp high alarm",
		"charge MOS temp sensor err",
		"discharge MOS temp sensor err",
		"charge MOS adhesion err",
		"discharge MOS adhesion err",
		"charge MOS open circuit err",
		"discharge MOS open circuit err",
	},
	{
		"AFE collect chip err",
		"voltage collect dropped",
		"cell temp sensor err",
		"EEPROM err",
		"RTC err",
		"precharge failure",
		"communication failure",
		"internal communication failure",
	},
	{
		"current module fault",
		"sum voltage detect fault",
		"short circuit protect fault",
		"low volt forbidden charge fault",
	},
}

// FaultsFromBytes maps every set bit to description, all zero is NoError.
func FaultsFromBytes(b []byte) Faults {
	result := Faults{}
	for i, x := range b {
		for j := uint(0); j < 8; j++ {
			if x&(1<<j) == 0 {
				continue
			}
			desc := ""
			if i < len(faultTable) {
				desc = faultTable[i][j]
			}
			if desc == "" {
				desc = fmt.Sprintf("unknown fault byte=%d bit=%d", i, j)
			}
			result = append(result, desc)
		}
	}
	if len(result) == 0 {
		result = append(result, NoError)
	}
	return result
}
