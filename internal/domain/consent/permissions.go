package consent

import "obgateway/internal/apperr"

// Permission is an Open Banking account-access permission code.
type Permission string

const (
	ReadAccountsBasic           Permission = "ReadAccountsBasic"
	ReadAccountsDetail          Permission = "ReadAccountsDetail"
	ReadBalances                Permission = "ReadBalances"
	ReadBeneficiariesBasic      Permission = "ReadBeneficiariesBasic"
	ReadBeneficiariesDetail     Permission = "ReadBeneficiariesDetail"
	ReadDirectDebits            Permission = "ReadDirectDebits"
	ReadOffers                  Permission = "ReadOffers"
	ReadParty                   Permission = "ReadParty"
	ReadPartyPSU                Permission = "ReadPartyPSU"
	ReadProducts                Permission = "ReadProducts"
	ReadScheduledPaymentsBasic  Permission = "ReadScheduledPaymentsBasic"
	ReadScheduledPaymentsDetail Permission = "ReadScheduledPaymentsDetail"
	ReadStandingOrdersBasic     Permission = "ReadStandingOrdersBasic"
	ReadStandingOrdersDetail    Permission = "ReadStandingOrdersDetail"
	ReadStatementsBasic         Permission = "ReadStatementsBasic"
	ReadStatementsDetail        Permission = "ReadStatementsDetail"
	ReadTransactionsBasic       Permission = "ReadTransactionsBasic"
	ReadTransactionsCredits     Permission = "ReadTransactionsCredits"
	ReadTransactionsDebits      Permission = "ReadTransactionsDebits"
	ReadTransactionsDetail      Permission = "ReadTransactionsDetail"
)

var knownPermissions = map[Permission]bool{
	ReadAccountsBasic: true, ReadAccountsDetail: true, ReadBalances: true,
	ReadBeneficiariesBasic: true, ReadBeneficiariesDetail: true, ReadDirectDebits: true,
	ReadOffers: true, ReadParty: true, ReadPartyPSU: true, ReadProducts: true,
	ReadScheduledPaymentsBasic: true, ReadScheduledPaymentsDetail: true,
	ReadStandingOrdersBasic: true, ReadStandingOrdersDetail: true,
	ReadStatementsBasic: true, ReadStatementsDetail: true,
	ReadTransactionsBasic: true, ReadTransactionsCredits: true,
	ReadTransactionsDebits: true, ReadTransactionsDetail: true,
}

// ValidatePermissions enforces a non-empty set of known codes and the
// transaction permission pairing rule (Basic/Detail needs Credits and/or Debits).
func ValidatePermissions(perms []Permission) error {
	if len(perms) == 0 {
		return apperr.Validation("consent.validate", "Permissions must not be empty")
	}
	has := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		if !knownPermissions[p] {
			return apperr.Validation("consent.validate", "unknown permission %q", p)
		}
		has[p] = true
	}
	level := has[ReadTransactionsBasic] || has[ReadTransactionsDetail]
	direction := has[ReadTransactionsCredits] || has[ReadTransactionsDebits]
	if level != direction {
		return apperr.Validation("consent.validate",
			"ReadTransactionsBasic/Detail must be combined with ReadTransactionsCredits and/or ReadTransactionsDebits")
	}
	return nil
}
