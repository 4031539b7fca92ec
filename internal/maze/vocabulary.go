package maze

// Catalog vocabulary. Treated as read-only; selection always works on copies.
var (
	itemTypes = []string{
		"Snap Trap", "Humane Catch Trap", "Electronic Trap", "Glue Trap",
		"Bucket Trap", "Multi-Catch Trap", "Live Catch Trap", "Professional Grade Trap",
	}

	brands = []string{
		"TrapMaster Pro", "CatchFast", "QuickSnap", "MouserX", "RodentGuard",
		"PestAway", "MightyCatch", "SmartTrap", "EcoTrap", "PowerSnap",
	}

	features = []string{
		"Non-toxic bait chamber", "Reusable design", "Easy disposal mechanism",
		"Humane release option", "Weather-resistant construction", "Tamper-proof design",
		"Large catch capacity", "Sensitive trigger mechanism", "Durable steel construction",
		"Quick reset feature", "Safe for pets and children", "Commercial grade materials",
	}

	descriptions = []string{
		"Professional-grade mouse trap with enhanced sensitivity trigger mechanism. Features non-toxic bait chamber and weather-resistant design.",
		"Humane catch-and-release trap with easy disposal mechanism. Safe for use around pets and children.",
		"Commercial grade snap trap with tamper-proof design. Large catch capacity with quick reset feature.",
		"Electronic trap with smart detection system. Features durable steel construction and reusable design.",
		"Multi-catch trap system with large capacity. Includes professional bait chamber and weather-resistant materials.",
	}

	quotes = []string{
		"Works great! Caught 3 mice in the first week.",
		"Very effective, highly recommend for commercial use.",
		"Easy to set up and dispose. Much better than traditional traps.",
		"Humane option that actually works. No more dealing with dead mice.",
		"Professional grade quality. Worth the investment for large infestations.",
	}
)
