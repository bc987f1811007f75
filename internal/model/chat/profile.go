package chat

// Profile is the display subset of a user or doctor account used to enrich
// broadcast messages and conversation listings.
type Profile struct {
	ID    string `bson:"_id" json:"_id"`
	Name  string `bson:"name" json:"name"`
	Email string `bson:"email,omitempty" json:"email,omitempty"`
	Image string `bson:"image,omitempty" json:"image,omitempty"`
}
