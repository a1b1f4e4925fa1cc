package services

import "github.com/carebridge/carebridge/internal/models"

// InvitationRequest describes what an invitation grants once accepted. The
// set of variants is closed: ChallengeInvitation, FamilyInvitation,
// DataShareInvitation and PlatformInvitation.
type InvitationRequest interface {
	Kind() models.InvitationKind
	contactSelector() ContactSelector
}

// ContactSelector addresses an invitation. The variants are EmailContact,
// PhoneContact and HealthIDContact.
type ContactSelector interface {
	isContactSelector()
}

// EmailContact addresses an invitation to a raw email address.
type EmailContact string

// PhoneContact addresses an invitation to a raw phone number.
type PhoneContact string

// HealthIDContact addresses an invitation to an existing user, resolved to
// their primary verified email or, failing that, their verified phone.
type HealthIDContact string

func (EmailContact) isContactSelector()    {}
func (PhoneContact) isContactSelector()    {}
func (HealthIDContact) isContactSelector() {}

// ChallengeRef names a challenge by exactly one of ID or title.
type ChallengeRef struct {
	ID   string
	Name string
}

// FamilyRef names a family group by exactly one of ID or name.
type FamilyRef struct {
	ID   string
	Name string
}

// ChallengeInvitation invites the contact to join a wellness challenge.
type ChallengeInvitation struct {
	Contact   ContactSelector
	Challenge ChallengeRef
}

// FamilyInvitation invites the contact into a family group as a plain member.
type FamilyInvitation struct {
	Contact ContactSelector
	Family  FamilyRef
}

// DataShareInvitation offers the contact access to a shared resource. An
// empty Resource shares the sender's own record.
type DataShareInvitation struct {
	Contact  ContactSelector
	Resource string
}

// PlatformInvitation invites someone to register. It needs a raw contact.
type PlatformInvitation struct {
	Contact ContactSelector
}

func (ChallengeInvitation) Kind() models.InvitationKind { return models.InvitationKindChallenge }
func (FamilyInvitation) Kind() models.InvitationKind    { return models.InvitationKindFamily }
func (DataShareInvitation) Kind() models.InvitationKind { return models.InvitationKindDataShare }
func (PlatformInvitation) Kind() models.InvitationKind  { return models.InvitationKindPlatform }

func (r ChallengeInvitation) contactSelector() ContactSelector { return r.Contact }
func (r FamilyInvitation) contactSelector() ContactSelector    { return r.Contact }
func (r DataShareInvitation) contactSelector() ContactSelector { return r.Contact }
func (r PlatformInvitation) contactSelector() ContactSelector  { return r.Contact }
