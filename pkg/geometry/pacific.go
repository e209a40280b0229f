package geometry

import "strings"

// Region labels for the cultural-area classification used by the map UI.
const (
	RegionMelanesia  = "Melanesia"
	RegionPolynesia  = "Polynesia"
	RegionMicronesia = "Micronesia"
	RegionHawaii     = "Hawaii"
)

// InPacificBounds reports whether a WGS84 point falls inside the Pacific
// window the atlas curates: either side of the antimeridian, between 60S
// and 60N.
func InPacificBounds(p Point) bool {
	if p.Y < -60 || p.Y > 60 {
		return false
	}
	return p.X <= -100 || p.X >= 100
}

// ClassifyRegion assigns a cultural region to a centroid. The boundaries are
// coarse bounding boxes; contested edges default to Polynesia, the largest
// region by extent.
func ClassifyRegion(centroid Point) string {
	lon, lat := centroid.X, centroid.Y

	// Hawaii sits far northeast of the rest of Polynesia
	if lat >= 18 && lat <= 29 && lon >= -179 && lon <= -154 {
		return RegionHawaii
	}
	// Micronesia: north of the equator, west-central Pacific
	if lat >= 0 && lat <= 22 && lon >= 130 && lon <= 178 {
		return RegionMicronesia
	}
	// Melanesia: south of the equator, western Pacific
	if lat >= -25 && lat < 0 && lon >= 130 && lon <= 172 {
		return RegionMelanesia
	}
	return RegionPolynesia
}

// majorIslands are always retained regardless of mapped area; smaller
// features on this list matter culturally even when the source polygon is
// coarse.
var majorIslands = map[string]struct{}{
	"hawaii":           {},
	"maui":             {},
	"oahu":             {},
	"kauai":            {},
	"molokai":          {},
	"lanai":            {},
	"niihau":           {},
	"kahoolawe":        {},
	"tahiti":           {},
	"moorea":           {},
	"bora bora":        {},
	"rarotonga":        {},
	"aitutaki":         {},
	"upolu":            {},
	"savaii":           {},
	"tutuila":          {},
	"tongatapu":        {},
	"vavau":            {},
	"viti levu":        {},
	"vanua levu":       {},
	"taveuni":          {},
	"guadalcanal":      {},
	"malaita":          {},
	"bougainville":     {},
	"new caledonia":    {},
	"grande terre":     {},
	"efate":            {},
	"espiritu santo":   {},
	"guam":             {},
	"saipan":           {},
	"pohnpei":          {},
	"chuuk":            {},
	"yap":              {},
	"kosrae":           {},
	"majuro":           {},
	"kwajalein":        {},
	"tarawa":           {},
	"funafuti":         {},
	"nauru":            {},
	"niue":             {},
	"rapa nui":         {},
	"easter island":    {},
	"pitcairn":         {},
	"norfolk island":   {},
	"chatham island":   {},
	"aotearoa":         {},
	"north island":     {},
	"south island":     {},
	"big island":       {},
	"palau":            {},
	"babeldaob":        {},
	"wallis":           {},
	"futuna":           {},
	"tokelau":          {},
	"swains island":    {},
	"manua":            {},
	"tinian":           {},
	"rota":             {},
	"new britain":      {},
	"new ireland":      {},
	"santa isabel":     {},
	"choiseul":         {},
	"makira":           {},
	"rennell":          {},
	"lifou":            {},
	"mare":             {},
	"ouvea":            {},
	"isle of pines":    {},
	"nuku hiva":        {},
	"hiva oa":          {},
	"raiatea":          {},
	"huahine":          {},
	"rangiroa":         {},
	"mangareva":        {},
	"tubuai":           {},
	"rurutu":           {},
	"atiu":             {},
	"mangaia":          {},
	"penrhyn":          {},
	"manihiki":         {},
	"pukapuka":         {},
	"rotuma":           {},
	"kadavu":           {},
	"ovalau":           {},
	"wake island":      {},
	"midway atoll":     {},
	"johnston atoll":   {},
	"christmas island": {},
	"kiritimati":       {},
	"tabiteuea":        {},
	"abemama":          {},
	"butaritari":       {},
	"malden":           {},
	"fakaofo":          {},
	"atafu":            {},
	"nukunonu":         {},
}

// MajorIslandAreaKm2 is the minimum mapped area for an unlisted island to be
// kept by the major-island filter.
const MajorIslandAreaKm2 = 1.0

// IsMajorIsland reports whether an island feature should survive the bulk
// GeoJSON import filter: large enough, or on the known-islands list.
func IsMajorIsland(areaKm2 float64, name string) bool {
	if areaKm2 > MajorIslandAreaKm2 {
		return true
	}
	_, ok := majorIslands[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
