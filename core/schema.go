package core

// Schema DDL, applied idempotently at startup. The append-only policy is
// enforced in the database itself: a trigger refuses deletes and any
// update that touches more than (verified, verified_at). Chain
// replacement runs with the transaction-local gseal.allow_replace GUC
// set, which is the only path allowed to rewrite history.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS creators (
    creator_id     UUID PRIMARY KEY,
    display_name   VARCHAR(255) NOT NULL UNIQUE,
    public_key_pem TEXT NOT NULL,
    active         BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT creators_display_name_shape
        CHECK (display_name ~ '^[A-Za-z0-9_-]{3,255}$')
);

CREATE TABLE IF NOT EXISTS blocks (
    block_id           UUID PRIMARY KEY,
    block_number       BIGINT NOT NULL UNIQUE,
    creator_id         UUID NOT NULL REFERENCES creators(creator_id),
    previous_hash      CHAR(64),
    block_hash         CHAR(64) NOT NULL UNIQUE,
    nonce              NUMERIC(20,0) NOT NULL,
    difficulty         INT NOT NULL,
    encrypted_data     BYTEA NOT NULL,
    data_iv            BYTEA NOT NULL,
    encrypted_data_key BYTEA NOT NULL,
    data_size          INT NOT NULL,
    signature          BYTEA NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    verified           BOOLEAN NOT NULL DEFAULT FALSE,
    verified_at        TIMESTAMPTZ,
    mining_duration_ms BIGINT NOT NULL DEFAULT 0,
    CONSTRAINT blocks_number_positive CHECK (block_number >= 1),
    CONSTRAINT blocks_difficulty_range CHECK (difficulty BETWEEN 1 AND 10),
    CONSTRAINT blocks_data_size_positive CHECK (data_size > 0),
    CONSTRAINT blocks_iv_size CHECK (octet_length(data_iv) = 16),
    CONSTRAINT blocks_data_min_size CHECK (octet_length(encrypted_data) >= 16),
    CONSTRAINT blocks_genesis_shape CHECK (
        (previous_hash IS NULL AND block_number = 1) OR
        (previous_hash IS NOT NULL AND block_number > 1)
    )
);

CREATE INDEX IF NOT EXISTS blocks_creator_idx ON blocks (creator_id);
CREATE INDEX IF NOT EXISTS blocks_pending_idx ON blocks (block_number) WHERE NOT verified;

CREATE SCHEMA IF NOT EXISTS audit;

CREATE TABLE IF NOT EXISTS audit.events (
    event_id   BIGSERIAL PRIMARY KEY,
    event_type TEXT NOT NULL,
    block_id   UUID,
    block_hash CHAR(64),
    detail     TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION blocks_append_only() RETURNS trigger AS $$
BEGIN
    IF current_setting('gseal.allow_replace', true) = 'on' THEN
        RETURN COALESCE(NEW, OLD);
    END IF;
    IF TG_OP = 'DELETE' THEN
        RAISE EXCEPTION 'blocks are append-only: delete forbidden'
            USING ERRCODE = 'raise_exception', CONSTRAINT = 'blocks_append_only';
    END IF;
    IF NEW.block_id           IS DISTINCT FROM OLD.block_id
    OR NEW.block_number       IS DISTINCT FROM OLD.block_number
    OR NEW.creator_id         IS DISTINCT FROM OLD.creator_id
    OR NEW.previous_hash      IS DISTINCT FROM OLD.previous_hash
    OR NEW.block_hash         IS DISTINCT FROM OLD.block_hash
    OR NEW.nonce              IS DISTINCT FROM OLD.nonce
    OR NEW.difficulty         IS DISTINCT FROM OLD.difficulty
    OR NEW.encrypted_data     IS DISTINCT FROM OLD.encrypted_data
    OR NEW.data_iv            IS DISTINCT FROM OLD.data_iv
    OR NEW.encrypted_data_key IS DISTINCT FROM OLD.encrypted_data_key
    OR NEW.data_size          IS DISTINCT FROM OLD.data_size
    OR NEW.signature          IS DISTINCT FROM OLD.signature
    OR NEW.created_at         IS DISTINCT FROM OLD.created_at
    OR NEW.mining_duration_ms IS DISTINCT FROM OLD.mining_duration_ms
    THEN
        RAISE EXCEPTION 'blocks are append-only: only (verified, verified_at) may change'
            USING ERRCODE = 'raise_exception', CONSTRAINT = 'blocks_append_only';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS blocks_append_only_trg ON blocks;
CREATE TRIGGER blocks_append_only_trg
    BEFORE UPDATE OR DELETE ON blocks
    FOR EACH ROW EXECUTE FUNCTION blocks_append_only();
`

// appendLockID serializes chain writers cluster-node-wide via a
// transaction scoped advisory lock.
const appendLockID = 0x5ea1
