package faker

// Small embedded locale tables for the deterministic faker, kept as
// plain Go literals rather than a generated dependency.
var localeWords = []string{
	"alex", "jordan", "taylor", "morgan", "casey", "riley", "avery", "quinn",
	"drew", "sage", "rowan", "skyler", "emerson", "hayden", "blair", "dakota",
	"kai", "reese", "parker", "finley",
}

var tlds = []string{"com", "net", "org", "dev"}

var cityNames = []string{
	"Springfield", "Riverton", "Fairview", "Lakeside", "Oakdale", "Greenville",
	"Millbrook", "Hartwell", "Brookhaven", "Cedarville", "Ashford", "Bellmont",
	"Westhaven", "Northgate", "Clearwater", "Stonebridge",
}
