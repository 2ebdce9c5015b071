package types

// Native program addresses known to the lab runtime.
var (
	// SystemProgramAddr owns every fresh account and serves account creation.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// NativeLoaderAddr owns the executable accounts of built-in programs.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// VaultLabProgramAddr is the default id the CLI deploys the vault program under.
	VaultLabProgramAddr = MustPubkeyFromBase58("VauLtLab11111111111111111111111111111111111")

	// WelcomeProgramAddr is the default id of the welcome program.
	WelcomeProgramAddr = MustPubkeyFromBase58("WeLcome111111111111111111111111111111111111")
)
