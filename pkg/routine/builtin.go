package routine

import "fmt"

// Instrument names accepted by Builtin
const (
	InstrumentNIRSpec = "nirspec"
	InstrumentMIRI    = "miri"
)

// Builtin returns the built-in routine table of an instrument
func Builtin(instrument string) (*Table, error) {
	switch instrument {
	case InstrumentNIRSpec:
		return NIRSpec(), nil
	case InstrumentMIRI:
		return MIRI(), nil
	}
	return nil, fmt.Errorf("no built-in routine for instrument %q", instrument)
}

func targets(ids ...string) []Target {
	out := make([]Target, len(ids))
	for i, id := range ids {
		out[i] = Target{Identifier: id}
	}
	return out
}

func when(mnemonic, op, value string) PredicateSpec {
	return PredicateSpec{Mnemonic: mnemonic, Operator: op, Value: value}
}

// NIRSpec returns the NIRSpec daily routine
func NIRSpec() *Table {
	return &Table{
		Instrument: InstrumentNIRSpec,
		Groups: []Group{
			{
				Name:       "fpe_idle",
				Conditions: []PredicateSpec{when("INRSD_EXP_STAT", "unequal", "STARTED")},
				Targets:    targets("SE_ZINRSFPEA", "SE_ZINRSFPEB"),
			},
			{
				Name:       "ice_no_lamp",
				Conditions: []PredicateSpec{when("INRSH_LAMP_SEL", "equal", "NO_LAMP")},
				Targets:    targets("SE_ZINRSICEA", "SE_ZINRSICEB"),
			},
			{
				Name: "caa_lamp_on",
				Conditions: []PredicateSpec{
					when("INRSI_CAA_ON_FLAG", "equal", "ON"),
					when("INRSH_LAMP_SEL", "unequal", "NO_LAMP"),
				},
				Targets: targets("INRSH_LAMP_SEL", "INRSI_C_CAA_CURRENT", "INRSI_C_CAA_VOLTAGE"),
			},
			{
				Name:       "wheel_motor_ref",
				Conditions: []PredicateSpec{when("INRSH_WHEEL_MOT_SVREF", "equal", "REF_ON")},
				Targets:    targets("IGDP_NRSI_C_FWA_TEMP", "IGDP_NRSI_C_GWA_TEMP"),
			},
			{
				Name:       "mce_idle",
				Conditions: []PredicateSpec{when("INRSM_MOVE_STAT", "unequal", "STARTED")},
				Targets:    targets("SE_ZINRSMCEA", "SE_ZINRSMCEB"),
			},
		},
	}
}

// MIRI wheel position labels
var (
	FilterWheelPositions = []string{
		"FND", "OPAQUE", "F1000W", "F1130W", "F1280W", "P750L", "F1500W", "F1800W", "F2100W",
		"F560W", "FLENS", "F2300C", "F770W", "F1550C", "F2550W", "F1140C", "F2550WR", "F1065C",
	}
	GratingWheelPositions         = []string{"SHORT", "MEDIUM", "LONG"}
	ContaminationControlPositions = []string{"CLOSED", "OPEN"}
)

func miriMechanism(name, prefix string, positions []string) Mechanism {
	return Mechanism{
		Name:       name,
		Conditions: []PredicateSpec{when(prefix+"_POS_VOLT", "greater", "250")},
		Ratio:      prefix + "_POS_RATIO",
		Current:    prefix + "_CUR_POS",
		Base:       prefix + "_POS_RATIO_",
		Positions:  positions,
	}
}

func selfGated(name, mnemonic string) Group {
	return Group{
		Name:       name,
		Conditions: []PredicateSpec{when(mnemonic, "greater", "250")},
		Targets:    targets(mnemonic),
	}
}

// MIRI returns the MIRI daily routine
func MIRI() *Table {
	return &Table{
		Instrument: InstrumentMIRI,
		Groups: []Group{
			{
				Name:       "ice_hv_on",
				Conditions: []PredicateSpec{when("IMIR_HK_ICE_SEC_VOLT1", "greater", "25")},
				Targets: []Target{
					{Identifier: "SE_ZIMIRICEA", Output: "SE_ZIMIRICEA_HV_ON"},
					{Identifier: "IMIR_HK_ICE_SEC_VOLT4", Output: "IMIR_HK_ICE_SEC_VOLT4_HV_ON"},
				},
			},
			selfGated("fw_pos_volt", "IMIR_HK_FW_POS_VOLT"),
			selfGated("gw14_pos_volt", "IMIR_HK_GW14_POS_VOLT"),
			selfGated("gw23_pos_volt", "IMIR_HK_GW23_POS_VOLT"),
			selfGated("ccc_pos_volt", "IMIR_HK_CCC_POS_VOLT"),
		},
		Mechanisms: []Mechanism{
			miriMechanism("filter_wheel", "IMIR_HK_FW", FilterWheelPositions),
			miriMechanism("grating_wheel_14", "IMIR_HK_GW14", GratingWheelPositions),
			miriMechanism("grating_wheel_23", "IMIR_HK_GW23", GratingWheelPositions),
			miriMechanism("contamination_control", "IMIR_HK_CCC", ContaminationControlPositions),
		},
	}
}
