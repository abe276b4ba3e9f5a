package shared

// Clinical and revenue module permissions.
const (
	PermPatientsView   = "patients.view"
	PermPatientsEdit   = "patients.edit"
	PermPatientsDelete = "patients.delete"

	PermAppointmentsView = "appointments.view"
	PermAppointmentsEdit = "appointments.edit"

	PermPharmacyView = "pharmacy.view"
	PermPharmacySell = "pharmacy.sell"

	PermLaboratoryView  = "laboratory.view"
	PermLaboratoryOrder = "laboratory.order"

	PermBillingView   = "billing.view"
	PermBillingRefund = "billing.refund"
	PermBillingVoid   = "billing.void"

	PermBackupsRun = "backups.run"
)

// ClinicalScopes lists permissions for patient-facing modules.
func ClinicalScopes() []string {
	return []string{
		PermPatientsView,
		PermPatientsEdit,
		PermPatientsDelete,
		PermAppointmentsView,
		PermAppointmentsEdit,
		PermPharmacyView,
		PermPharmacySell,
		PermLaboratoryView,
		PermLaboratoryOrder,
		PermBillingView,
		PermBillingRefund,
		PermBillingVoid,
		PermBackupsRun,
	}
}
