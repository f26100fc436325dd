package predictor

// Exported aliases of the component-type enum, for callers (header)
// that need to recognize which variant a Spec describes without
// hard-coding the wire-format type numbers a second time.
const (
	TypeConst = typeCons
	TypeCM    = typeCM
	TypeICM   = typeICM
	TypeMatch = typeMatch
	TypeAvg   = typeAvg
	TypeMix2  = typeMix2
	TypeMix   = typeMix
	TypeISSE  = typeISSE
	TypeSSE   = typeSSE
)
