package registry

// Seed returns the built-in activities every process starts with. The returned map is freshly
// allocated on each call so callers may hand it straight to New.
func Seed() map[string]Activity {
	return map[string]Activity{
		"Chess Club": {
			Description:     "Learn strategies and compete in chess tournaments",
			Schedule:        "Fridays, 3:30 PM - 5:00 PM",
			MaxParticipants: 12,
			Participants:    []string{"michael@mergington.edu", "daniel@mergington.edu"},
		},
		"Programming Class": {
			Description:     "Learn programming fundamentals and build software projects",
			Schedule:        "Tuesdays and Thursdays, 3:30 PM - 4:30 PM",
			MaxParticipants: 20,
			Participants:    []string{"emma@mergington.edu", "sophia@mergington.edu"},
		},
		"Gym Class": {
			Description:     "Physical education and sports activities",
			Schedule:        "Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM",
			MaxParticipants: 30,
			Participants:    []string{"john@mergington.edu", "olivia@mergington.edu"},
		},

		// Sports
		"Soccer Team": {
			Description:     "Competitive soccer team that plays inter-school matches and practices tactical skills.",
			Schedule:        "Mondays, Wednesdays, Fridays, 4:00 PM - 6:00 PM",
			MaxParticipants: 25,
			Participants:    []string{"liam@mergington.edu", "ava@mergington.edu"},
		},
		"Basketball Team": {
			Description:     "Organized basketball team with practice sessions and weekend games.",
			Schedule:        "Tuesdays and Thursdays, 4:30 PM - 6:30 PM",
			MaxParticipants: 15,
			Participants:    []string{"ethan@mergington.edu", "isabella@mergington.edu"},
		},

		// Artistic
		"Art Club": {
			Description:     "Explore drawing, painting, and mixed media projects in a collaborative studio environment.",
			Schedule:        "Wednesdays, 3:30 PM - 5:30 PM",
			MaxParticipants: 20,
			Participants:    []string{"noah@mergington.edu"},
		},
		"Drama Club": {
			Description:     "Acting, play production, and stagecraft for students interested in theater.",
			Schedule:        "Mondays and Thursdays, 5:00 PM - 7:00 PM",
			MaxParticipants: 30,
			Participants:    []string{"mia@mergington.edu"},
		},

		// Intellectual
		"Debate Team": {
			Description:     "Prepare for debate competitions, practice public speaking, and develop argumentation skills.",
			Schedule:        "Tuesdays, 4:00 PM - 6:00 PM",
			MaxParticipants: 16,
			Participants:    []string{"noelle@mergington.edu"},
		},
		"Robotics Club": {
			Description:     "Design, build, and program robots for challenges and competitions.",
			Schedule:        "Thursdays, 3:30 PM - 5:30 PM",
			MaxParticipants: 18,
			Participants:    []string{"alex@mergington.edu", "zoe@mergington.edu"},
		},
	}
}
